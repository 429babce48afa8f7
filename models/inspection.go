package models

// InspectionRecord is one raw row from the open-data endpoint. Every field
// arrives as a string and any of them may be missing.
type InspectionRecord struct {
	Camis                string `json:"camis,omitempty"`
	Dba                  string `json:"dba,omitempty"`
	Boro                 string `json:"boro,omitempty"`
	Building             string `json:"building,omitempty"`
	Street               string `json:"street,omitempty"`
	Zipcode              string `json:"zipcode,omitempty"`
	Phone                string `json:"phone,omitempty"`
	CuisineDescription   string `json:"cuisine_description,omitempty"`
	InspectionDate       string `json:"inspection_date,omitempty"`
	Action               string `json:"action,omitempty"`
	ViolationCode        string `json:"violation_code,omitempty"`
	ViolationDescription string `json:"violation_description,omitempty"`
	CriticalFlag         string `json:"critical_flag,omitempty"`
	Score                string `json:"score,omitempty"`
	Grade                string `json:"grade,omitempty"`
	GradeDate            string `json:"grade_date,omitempty"`
	RecordDate           string `json:"record_date,omitempty"`
	InspectionType       string `json:"inspection_type,omitempty"`
	Latitude             string `json:"latitude,omitempty"`
	Longitude            string `json:"longitude,omitempty"`
}

// SelectColumns is the column list requested from the endpoint, in the order
// written to the raw CSV archive.
var SelectColumns = []string{
	"camis", "dba", "boro", "building", "street", "zipcode", "phone",
	"cuisine_description", "inspection_date", "action", "violation_code",
	"violation_description", "critical_flag", "score", "grade", "grade_date",
	"record_date", "inspection_type", "latitude", "longitude",
}

// Values returns the fields in SelectColumns order
func (r InspectionRecord) Values() []string {
	return []string{
		r.Camis, r.Dba, r.Boro, r.Building, r.Street, r.Zipcode, r.Phone,
		r.CuisineDescription, r.InspectionDate, r.Action, r.ViolationCode,
		r.ViolationDescription, r.CriticalFlag, r.Score, r.Grade, r.GradeDate,
		r.RecordDate, r.InspectionType, r.Latitude, r.Longitude,
	}
}
