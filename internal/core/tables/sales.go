package tables

import "github.com/JonMunkholm/salesqc/internal/core"

// SalesName is the registry key of the sales order schema.
const SalesName = "sales"

// Regions are the canonical sales regions.
var Regions = []string{"North", "South", "East", "West", "Central"}

// Sales describes a sales order export: one row per order.
var Sales = &core.Schema{
	Name: SalesName,
	Fields: []core.FieldSpec{
		{Name: "order_id", Type: core.FieldText, Required: true},
		{Name: "order_date", Type: core.FieldDate, Expected: true},
		{Name: "region", Type: core.FieldEnum, Required: true, EnumValues: Regions},
		{Name: "product", Type: core.FieldText, Expected: true},
		{Name: "quantity", Type: core.FieldInteger, Required: true},
		{Name: "revenue", Type: core.FieldNumeric, Required: true, Precision: 15, Scale: 2},
	},
	Roles: core.FieldRoles{
		OrderID:   "order_id",
		OrderDate: "order_date",
		Region:    "region",
		Product:   "product",
		Quantity:  "quantity",
		Revenue:   "revenue",
	},
	DateLayout: core.DefaultDateLayout,
}

func init() {
	core.Register(Sales)
}
