package request

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/forecast-retriever/internal/query"
)

var (
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrUnsupportedLevel = errors.New("unsupported level")
	ErrUnsupportedMode  = errors.New("unsupported retrieval mode")
)

// Settings is the subset of the pipeline configuration the builder reads.
type Settings struct {
	Model           string
	Level           string
	RetrievalMode   string
	Format          string
	Variables       []string
	IssueHours      []string
	Lookback        int
	StepGranularity int
}

// Builder expands a query into the ordered list of provider requests.
type Builder struct {
	settings Settings
	log      *slog.Logger
}

// NewBuilder creates a builder. A nil logger falls back to slog.Default().
func NewBuilder(s Settings, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{settings: s, log: log.With("component", "request_builder")}
}

type subset struct {
	area string
	grid string
}

// Build returns one request per (day, issue hour, spatial subset), day-major.
// Configuration errors are reported before any request is produced.
func (b *Builder) Build(q query.Query) ([]Request, error) {
	base, err := b.base()
	if err != nil {
		return nil, err
	}

	subsets, err := b.subsets(q)
	if err != nil {
		return nil, err
	}

	days := q.Days()
	out := make([]Request, 0, len(days)*len(b.settings.IssueHours)*len(subsets))
	for _, day := range days {
		date := day.Format("2006-01-02")
		b.log.Debug("building requests", "date", date)
		for _, hour := range b.settings.IssueHours {
			for _, s := range subsets {
				c := base
				c.Area = s.area
				c.Grid = s.grid
				c.Date = date
				c.Time = hour
				out = append(out, b.wrap(c))
			}
		}
	}

	b.log.Info("requests built",
		"query_id", q.ID(),
		"days", len(days),
		"issue_hours", len(b.settings.IssueHours),
		"subsets", len(subsets),
		"requests", len(out),
	)
	return out, nil
}

func (b *Builder) base() (Common, error) {
	switch Model(b.settings.Model) {
	case ModelHRES, ModelENS:
	default:
		return Common{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, b.settings.Model)
	}
	if b.settings.Level != LevelSurface {
		return Common{}, fmt.Errorf("%w: %q (only surface is supported)", ErrUnsupportedLevel, b.settings.Level)
	}

	format := b.settings.Format
	if format == "" {
		format = "netcdf"
	}

	params := make([]string, len(b.settings.Variables))
	copy(params, b.settings.Variables)

	return Common{
		Class:   "od",
		Expver:  "1",
		Format:  format,
		Levtype: "sfc",
		Step:    fmt.Sprintf("0/to/%d/by/%d", b.settings.Lookback, b.settings.StepGranularity),
		Params:  params,
	}, nil
}

func (b *Builder) subsets(q query.Query) ([]subset, error) {
	switch Mode(b.settings.RetrievalMode) {
	case ModeGrid:
		box, err := query.SnappedBoundingBox(q.Points, GridResolution)
		if err != nil {
			return nil, fmt.Errorf("grid area: %w", err)
		}
		return []subset{{area: box.Area(), grid: gridString(GridResolution)}}, nil

	case ModePoint:
		out := make([]subset, 0, len(q.Points))
		for _, p := range q.Points {
			lat, lon := query.FormatFloat(p.Lat), query.FormatFloat(p.Lon)
			out = append(out, subset{
				area: lat + "/" + lon + "/" + lat + "/" + lon,
				grid: gridString(PointResolution),
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, b.settings.RetrievalMode)
	}
}

func (b *Builder) wrap(c Common) Request {
	if Model(b.settings.Model) == ModelENS {
		return ENSRequest{Common: c, Number: ensembleMembers}
	}
	return HRESRequest{Common: c}
}

func gridString(res float64) string {
	s := query.FormatFloat(res)
	return s + "/" + s
}
