package models

type Warehouse struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region Region `json:"region"`
}

// DefaultWarehouses are the two hubs the console operates.
func DefaultWarehouses() []Warehouse {
	return []Warehouse{
		{ID: "WH-GZ-01", Code: "GZ-01", Name: "Guangzhou Consolidation Hub", Region: RegionChina},
		{ID: "WH-DAR-01", Code: "DAR-01", Name: "Dar es Salaam Receiving Hub", Region: RegionTanzania},
	}
}
