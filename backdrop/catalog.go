package backdrop

const storageBase = "https://storage.keroxio.fr/backgrounds/"

func photo(file string) *ImageSource {
	return &ImageSource{File: file, URL: storageBase + file}
}

func preview(file string) string {
	return storageBase + "thumbs/" + file
}

// Catalog returns the built-in backgrounds in display order.
func Catalog() []Spec {
	return []Spec{
		{
			ID:          "showroom_indoor",
			Name:        "Indoor Showroom",
			Description: "Modern dealership floor with studio lighting",
			PreviewURL:  preview("showroom-indoor.jpg"),
			Category:    CategoryShowroom,
			Recipe:      Recipe{Image: photo("showroom-indoor.jpg")},
		},
		{
			ID:          "showroom_outdoor",
			Name:        "Outdoor Showroom",
			Description: "Premium outdoor lot with greenery",
			PreviewURL:  preview("showroom-outdoor.jpg"),
			Category:    CategoryShowroom,
			Recipe:      Recipe{Image: photo("showroom-outdoor.jpg")},
		},
		{
			ID:          "studio_white",
			Name:        "White Studio",
			Description: "Clean catalogue style white backdrop",
			PreviewURL:  preview("studio-white.jpg"),
			Category:    CategoryStudio,
			Recipe:      Recipe{Gradient: &Gradient{Top: rgb(255, 255, 255), Bottom: rgb(240, 240, 240), Floor: true}},
			Defaults:    Defaults{Shadow: true, ShadowOpacity: 0.5},
		},
		{
			ID:          "studio_grey",
			Name:        "Grey Studio",
			Description: "Neutral grey professional backdrop",
			PreviewURL:  preview("studio-grey.jpg"),
			Category:    CategoryStudio,
			Recipe:      Recipe{Gradient: &Gradient{Top: rgb(160, 160, 160), Bottom: rgb(100, 100, 100), Floor: true}},
			Defaults:    Defaults{Shadow: true, ShadowOpacity: 0.5},
		},
		{
			ID:          "studio_black",
			Name:        "Black Studio",
			Description: "Premium black backdrop for sport and luxury cars",
			PreviewURL:  preview("studio-black.jpg"),
			Category:    CategoryStudio,
			Recipe:      Recipe{Gradient: &Gradient{Top: rgb(50, 50, 55), Bottom: rgb(15, 15, 18), Floor: true}},
			Defaults:    Defaults{Shadow: true, ShadowOpacity: 0.3},
		},
		{
			ID:          "garage_modern",
			Name:        "Modern Garage",
			Description: "Workshop with epoxy floor and LED lighting",
			PreviewURL:  preview("garage-modern.jpg"),
			Category:    CategoryGarage,
			Recipe:      Recipe{Image: photo("garage-modern.jpg")},
		},
		{
			ID:          "garage_luxury",
			Name:        "Luxury Garage",
			Description: "High end private collection garage",
			PreviewURL:  preview("garage-luxury.jpg"),
			Category:    CategoryGarage,
			Recipe:      Recipe{Image: photo("garage-luxury.jpg")},
		},
		{
			ID:          "parking_outdoor",
			Name:        "Outdoor Parking",
			Description: "Parking lot with a modern city view",
			PreviewURL:  preview("parking-outdoor.jpg"),
			Category:    CategoryOutdoor,
			Recipe:      Recipe{Image: photo("parking-outdoor.jpg")},
		},
		{
			ID:          "showroom",
			Name:        "Blue Showroom",
			Description: "Generated dark blue showroom gradient",
			Category:    CategoryShowroom,
			Recipe:      Recipe{Gradient: &Gradient{Top: rgb(45, 55, 72), Bottom: rgb(25, 30, 42), Floor: true}},
			Defaults:    Defaults{Shadow: true, ShadowOpacity: 0.5},
		},
		{
			ID:          "outdoor",
			Name:        "Sky",
			Description: "Generated sky gradient",
			Category:    CategoryOutdoor,
			Recipe:      Recipe{Gradient: &Gradient{Top: rgb(135, 170, 200), Bottom: rgb(200, 210, 220)}},
		},
	}
}
