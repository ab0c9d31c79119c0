// Package request expands a query into concrete provider requests.
package request

// Model selects the forecast product.
type Model string

const (
	ModelHRES Model = "hres"
	ModelENS  Model = "ens"
)

// Mode selects how the spatial extent of a query is requested.
type Mode string

const (
	ModeGrid  Mode = "grid"
	ModePoint Mode = "point"
)

// LevelSurface is the only supported level.
const LevelSurface = "surface"

const (
	// GridResolution is the cell size, in degrees, of gridded requests.
	GridResolution = 0.1
	// PointResolution is the cell size of single-point requests.
	PointResolution = 0.01

	ensembleMembers = "1/to/50/by/1"
)

// Request is one concrete provider request. The set of implementations is
// closed: HRESRequest and ENSRequest.
type Request interface {
	Model() Model
	Fields() Common
	// Payload returns the wire dictionary sent to the provider.
	Payload() map[string]any
	isRequest()
}

// Common holds the fields shared by every request variant.
type Common struct {
	Class   string
	Expver  string
	Format  string
	Levtype string
	Step    string
	Params  []string
	Area    string
	Grid    string
	Date    string // YYYY-MM-DD
	Time    string // issue hour, HH
}

// Issued returns the issuance as "YYYY-MM-DD HH:00".
func (c Common) Issued() string {
	return c.Date + " " + c.Time + ":00"
}

func (c Common) payload() map[string]any {
	params := make([]string, len(c.Params))
	copy(params, c.Params)
	return map[string]any{
		"class":   c.Class,
		"expver":  c.Expver,
		"format":  c.Format,
		"levtype": c.Levtype,
		"step":    c.Step,
		"param":   params,
		"area":    c.Area,
		"grid":    c.Grid,
		"date":    c.Date,
		"time":    c.Time,
	}
}

// HRESRequest targets the deterministic high-resolution forecast.
type HRESRequest struct {
	Common
}

func (HRESRequest) Model() Model { return ModelHRES }
func (r HRESRequest) Fields() Common { return r.Common }
func (HRESRequest) isRequest() {}

// Payload adds stream=oper, type=fc to the common fields.
func (r HRESRequest) Payload() map[string]any {
	p := r.Common.payload()
	p["stream"] = "oper"
	p["type"] = "fc"
	return p
}

// ENSRequest targets the perturbed members of the ensemble forecast.
type ENSRequest struct {
	Common
	Number string // member range
}

func (ENSRequest) Model() Model { return ModelENS }
func (r ENSRequest) Fields() Common { return r.Common }
func (ENSRequest) isRequest() {}

// Payload adds stream=enfo, type=pf and the member range.
func (r ENSRequest) Payload() map[string]any {
	p := r.Common.payload()
	p["stream"] = "enfo"
	p["type"] = "pf"
	p["number"] = r.Number
	return p
}
