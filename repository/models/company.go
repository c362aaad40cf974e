package models

// Company is the registry entry of an establishment. SecurityCode lets a
// transporter sign on the company's behalf.
type Company struct {
	OrgID          string `gorm:"column:org_id;primaryKey;type:varchar(20)"`
	Name           string `gorm:"column:name;type:varchar(255);not null"`
	SecurityCode   string `gorm:"column:security_code;type:varchar(10)"`
	IsEcoOrganisme bool   `gorm:"column:is_eco_organisme;default:false"`
}
