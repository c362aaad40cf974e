package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CompanyInfo is embedded with a column prefix wherever a company appears
type CompanyInfo struct {
	Siret     string `gorm:"column:siret;type:varchar(14)"`
	VatNumber string `gorm:"column:vat_number;type:varchar(20)"`
	Name      string `gorm:"column:name;type:varchar(255)"`
	Address   string `gorm:"column:address;type:varchar(255)"`
	Contact   string `gorm:"column:contact;type:varchar(100)"`
	Mail      string `gorm:"column:mail;type:varchar(100)"`
	Phone     string `gorm:"column:phone;type:varchar(30)"`
	Country   string `gorm:"column:country;type:varchar(2)"`
}

// Bordereau is one waste tracking document, of any type
type Bordereau struct {
	ID               string `gorm:"column:bordereau_id;primaryKey;type:varchar(40)"`
	Type             string `gorm:"column:type;type:varchar(10);index;not null"`
	Status           string `gorm:"column:status;type:varchar(30);index;not null"`
	IsDraft          bool   `gorm:"column:is_draft;not null"`
	IsCanceled       bool   `gorm:"column:is_canceled;default:false"`
	IsSynthesis      bool   `gorm:"column:is_synthesis;default:false"`
	LegacyQuantities bool   `gorm:"column:legacy_quantities;default:false"`

	Emitter CompanyInfo `gorm:"embedded;embeddedPrefix:emitter_"`
	// Optional parties (eco-organisme, worker, trader, broker) as one JSON object
	Parties datatypes.JSON `gorm:"column:parties"`

	Destination            CompanyInfo    `gorm:"embedded;embeddedPrefix:destination_"`
	DestinationCap         string         `gorm:"column:destination_cap;type:varchar(100)"`
	PlannedOperationCode   string         `gorm:"column:planned_operation_code;type:varchar(10)"`
	RecipientIsTempStorage bool           `gorm:"column:recipient_is_temp_storage;default:false"`
	TemporaryStorage       datatypes.JSON `gorm:"column:temporary_storage"`

	WasteCode        string              `gorm:"column:waste_code;type:varchar(20)"`
	WasteDescription string              `gorm:"column:waste_description;type:text"`
	WasteADR         string              `gorm:"column:waste_adr;type:text"`
	WastePop         bool                `gorm:"column:waste_pop;default:false"`
	WasteQuantity    decimal.NullDecimal `gorm:"column:waste_quantity;type:decimal(20,6)"`

	AcceptationStatus string              `gorm:"column:acceptation_status;type:varchar(20)"`
	RefusalReason     string              `gorm:"column:refusal_reason;type:text"`
	QuantityReceived  decimal.NullDecimal `gorm:"column:quantity_received;type:decimal(20,6)"`
	QuantityRefused   decimal.NullDecimal `gorm:"column:quantity_refused;type:decimal(20,6)"`
	QuantityAccepted  decimal.NullDecimal `gorm:"column:quantity_accepted;type:decimal(20,6)"`

	OperationCode        string         `gorm:"column:operation_code;type:varchar(10)"`
	OperationMode        string         `gorm:"column:operation_mode;type:varchar(30)"`
	OperationDescription string         `gorm:"column:operation_description;type:text"`
	NoTraceability       bool           `gorm:"column:no_traceability;default:false"`
	NextDestination      datatypes.JSON `gorm:"column:next_destination"`

	ParentFinalizedAt *time.Time     `gorm:"column:parent_finalized_at"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Transporters []Transporter `gorm:"foreignKey:BordereauID"`
	Signatures   []Signature   `gorm:"foreignKey:BordereauID"`
}

// Transporter is one leg of a multi-modal transport, numbered from 1
type Transporter struct {
	ID            uint        `gorm:"column:transporter_id;primaryKey;autoIncrement"`
	BordereauID   string      `gorm:"column:bordereau_id;type:varchar(40);uniqueIndex:idx_transporter_number;not null"`
	Number        int         `gorm:"column:number;uniqueIndex:idx_transporter_number;not null"`
	Company       CompanyInfo `gorm:"embedded;embeddedPrefix:company_"`
	Plate         string      `gorm:"column:plate;type:varchar(30)"`
	TransportMode string      `gorm:"column:transport_mode;type:varchar(20)"`
}
