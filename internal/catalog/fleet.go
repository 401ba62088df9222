package catalog

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *point         `json:"geometry,omitempty"`
}

type featureSet struct {
	Type     string    `json:"type,omitempty"`
	Features []feature `json:"features"`
}

func order(name string, x, y float64) feature {
	return feature{
		Attributes: map[string]any{"Name": name, "ServiceTime": 10},
		Geometry:   &point{X: x, Y: y},
	}
}

const depotName = "Bay Cities Kitchens and Appliances"

// Six Santa Monica restaurants served by two vehicles from one depot.
var fleetOrders = featureSet{
	Type: "features",
	Features: []feature{
		order("Father's Office", -118.498406, 34.029445),
		order("R+D Kitchen", -118.495788, 34.032339),
		order("Pono Burger", -118.489469, 34.019000),
		order("Il Ristorante di Giorgio Baldi", -118.518787, 34.028508),
		order("Milo + Olive", -118.476026, 34.037572),
		order("Dialogue", -118.495814, 34.017042),
	},
}

var fleetDepots = featureSet{
	Type: "features",
	Features: []feature{{
		Attributes: map[string]any{"Name": depotName},
		Geometry:   &point{X: -118.469630, Y: 34.037555},
	}},
}

func vehicle(n int) feature {
	name := "Route " + string(rune('0'+n))
	return feature{Attributes: map[string]any{
		"Name":           name,
		"Description":    "vehicle " + string(rune('0'+n)),
		"StartDepotName": depotName,
		"EndDepotName":   depotName,
		"Capacities":     "4",
		"MaxOrderCount":  3,
		"MaxTotalTime":   60,
	}}
}

var fleetRoutes = featureSet{Features: []feature{vehicle(1), vehicle(2)}}
