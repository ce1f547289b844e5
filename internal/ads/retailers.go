package ads

// DefaultRetailers returns the retailer set tracked when configuration does not override it.
func DefaultRetailers() []RetailerTarget {
	return []RetailerTarget{
		{
			ID:        "cvs",
			Name:      "CVS Pharmacy",
			ShortName: "CVS",
			Color:     "#CC0000",
			URL:       "www.cvs.com/shop",
			DirectURL: "https://www.cvs.com/shop",
		},
		{
			ID:        "walgreens",
			Name:      "Walgreens",
			ShortName: "Walgreens",
			Color:     "#E31837",
			URL:       "www.walgreens.com",
			DirectURL: "https://www.walgreens.com",
		},
		{
			ID:        "walmart",
			Name:      "Walmart",
			ShortName: "Walmart",
			Color:     "#0071CE",
			URL:       "www.walmart.com",
			DirectURL: "https://www.walmart.com",
		},
		{
			ID:        "costco",
			Name:      "Costco",
			ShortName: "Costco",
			Color:     "#005DAA",
			URL:       "www.costco.com",
			DirectURL: "https://www.costco.com",
		},
		{
			ID:        "kroger",
			Name:      "Kroger",
			ShortName: "Kroger",
			Color:     "#1F5FA6",
			URL:       "www.kroger.com",
			DirectURL: "https://www.kroger.com",
		},
	}
}
