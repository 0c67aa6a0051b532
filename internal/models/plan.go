package models

// PlanOffer представляет тариф, который показывает витрина.
type PlanOffer struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	BundleName  string  `json:"bundleName,omitempty"`
	Data        string  `json:"data"`
	DataAmount  float64 `json:"dataAmount"`
	DataUnit    string  `json:"dataUnit"`
	Duration    int     `json:"duration"`
	Validity    string  `json:"validity"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Unlimited   bool    `json:"unlimited"`
	CountryCode string  `json:"countryCode,omitempty"`
	Region      string  `json:"region,omitempty"`
}

// PlanSet содержит тарифы, разделённые на обычные и безлимитные.
type PlanSet struct {
	Standard  []PlanOffer `json:"standard"`
	Unlimited []PlanOffer `json:"unlimited"`
}

// Price описывает цену пакета.
type Price struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Formatted string  `json:"formatted"`
}

// Bundle представляет нормализованную запись каталога провайдера.
type Bundle struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Data        string  `json:"data"`
	DataAmount  float64 `json:"dataAmount"`
	DataUnit    string  `json:"dataUnit"`
	Duration    int     `json:"duration"`
	Validity    string  `json:"validity"`
	Price       Price   `json:"price"`
	Country     string  `json:"country"`
	CountryName string  `json:"countryName"`
	Unlimited   bool    `json:"unlimited"`
}
