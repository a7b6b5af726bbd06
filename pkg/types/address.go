package types

import "strings"

// Address is a postal address captured at checkout. Stored as jsonb.
type Address struct {
	Name       string  `json:"name" validate:"required,max=120"`
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	State      string  `json:"state" validate:"required,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

// Normalize trims whitespace and upper-cases the country code.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	return a
}
