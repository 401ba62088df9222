package catalog

import (
	"strings"

	"usagegen/internal/config"
)

// Hosts are the service roots a run talks to. Basemaps and Imagery end in
// /arcgis/rest/services/; the others are bare origins.
type Hosts struct {
	Basemaps  string
	Imagery   string
	Geocode   string
	Places    string
	Route     string
	Logistics string
	Geoenrich string
}

// HostsFor picks hosts by stage and the enhanced-services flag. A non-empty
// baseURL replaces every host, which is how runs are pointed at the fake
// platform.
func HostsFor(stage string, enhanced bool, baseURL string) Hosts {
	if baseURL != "" {
		base := strings.TrimRight(baseURL, "/")
		return Hosts{
			Basemaps:  base + servicesPath,
			Imagery:   base + servicesPath,
			Geocode:   base,
			Places:    base,
			Route:     base,
			Logistics: base,
			Geoenrich: base,
		}
	}

	dev := stage == config.StageDev
	switch {
	case dev && enhanced:
		return Hosts{
			Basemaps:  "https://basemapsdev.arcgis.com" + servicesPath,
			Imagery:   "https://basemapsdev.arcgis.com" + servicesPath,
			Geocode:   "https://geocodedev.arcgis.com",
			Places:    "https://placesdev-api.arcgis.com",
			Route:     "https://routedev.arcgis.com",
			Logistics: "https://logisticsdev.arcgis.com",
			Geoenrich: "https://geoenrichdev.arcgis.com",
		}
	case dev:
		return Hosts{
			Basemaps:  "https://basemapsdev-api.arcgis.com" + servicesPath,
			Imagery:   "https://ibasemapsdev-api.arcgis.com" + servicesPath,
			Geocode:   "https://geocodedev.arcgis.com",
			Places:    "https://placesdev-api.arcgis.com",
			Route:     "https://routedev.arcgis.com",
			Logistics: "https://logisticsdev.arcgis.com",
			Geoenrich: "https://geoenrichdev.arcgis.com",
		}
	case enhanced:
		return Hosts{
			Basemaps:  "https://basemaps.arcgis.com" + servicesPath,
			Imagery:   "https://server.arcgisonline.com" + servicesPath,
			Geocode:   "https://geocode.arcgis.com",
			Places:    "https://places-api.arcgis.com",
			Route:     "https://route-api.arcgis.com",
			Logistics: "https://logistics.arcgis.com",
			Geoenrich: "https://geoenrich.arcgis.com",
		}
	default:
		return Hosts{
			Basemaps:  "https://basemaps-api.arcgis.com" + servicesPath,
			Imagery:   "https://ibasemaps-api.arcgis.com" + servicesPath,
			Geocode:   "https://geocode-api.arcgis.com",
			Places:    "https://places-api.arcgis.com",
			Route:     "https://route-api.arcgis.com",
			Logistics: "https://logistics.arcgis.com",
			Geoenrich: "https://geoenrich.arcgis.com",
		}
	}
}

const servicesPath = "/arcgis/rest/services/"

// TileBase returns the tile endpoint prefix for a service, ending in
// "/tile/".
func (h Hosts) TileBase(service string, useOceans bool) string {
	switch service {
	case config.TileImage:
		if useOceans {
			return h.Imagery + "Ocean/World_Ocean_Base/MapServer/tile/"
		}
		return h.Imagery + "World_Imagery/MapServer/tile/"
	case config.TileHillshade:
		return h.Imagery + "Elevation/World_Hillshade_Dark/MapServer/tile/"
	case config.TileOSM:
		return h.Basemaps + "OpenStreetMap_v2/VectorTileServer/tile/"
	default:
		return h.Basemaps + "World_Basemap_v2/VectorTileServer/tile/"
	}
}

// StyleURL is the vector basemap style document fetched before a vector
// sweep.
func (h Hosts) StyleURL() string {
	return h.Basemaps + "styles/ArcGIS:Topographic"
}
