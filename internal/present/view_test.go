package present

import (
	"strings"
	"testing"

	"github.com/example/foodscan/internal/classifier"
)

func jollof() *classifier.Result {
	return &classifier.Result{
		FoodName:        "Jollof Rice",
		Description:     "A popular West African rice dish",
		Origin:          "West Africa",
		SpiceLevel:      "Medium",
		MainIngredients: []string{"Rice", "Tomato", "Onion", "Pepper"},
		Source:          "Camera",
		Preview:         "/tmp/jollof.jpg",
	}
}

func TestRenderShowsFieldsWithIngredientsCollapsed(t *testing.T) {
	view := Present(jollof())
	if view.IngredientsOpen() {
		t.Fatal("ingredients should start collapsed")
	}

	out := view.Render()
	for _, want := range []string{"Jollof Rice", "A popular West African rice dish", "West Africa", "Medium", "Main ingredients (4)", "/tmp/jollof.jpg"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Tomato") {
		t.Fatalf("collapsed view must not list ingredients:\n%s", out)
	}
}

func TestRenderNeverPrintsInlineImageData(t *testing.T) {
	result := jollof()
	result.Preview = "data:image/jpeg;base64," + strings.Repeat("QUJD", 4096)

	out := Present(result).Render()
	if strings.Contains(out, "base64") || len(out) > 1024 {
		t.Fatalf("inline image data leaked into the view (%d bytes)", len(out))
	}
	if !strings.Contains(out, "Image: inline image/jpeg") {
		t.Fatalf("expected inline image label in output:\n%s", out)
	}
}

func TestToggleExpandsInOrder(t *testing.T) {
	view := Present(jollof())
	view.Toggle()
	if !view.IngredientsOpen() {
		t.Fatal("expected ingredients to be open after toggle")
	}

	out := view.Render()
	last := -1
	for _, ingredient := range []string{"Rice", "Tomato", "Onion", "Pepper"} {
		idx := strings.Index(out, "• "+ingredient)
		if idx < 0 {
			t.Fatalf("missing ingredient %q:\n%s", ingredient, out)
		}
		if idx < last {
			t.Fatalf("ingredient %q rendered out of order", ingredient)
		}
		last = idx
	}

	view.Toggle()
	if view.IngredientsOpen() {
		t.Fatal("expected second toggle to collapse")
	}
}

func TestRenderPlaceholdersForMissingFields(t *testing.T) {
	out := Present(&classifier.Result{FoodName: "Suya"}).Render()
	if !strings.Contains(out, "Origin: -") {
		t.Fatalf("expected placeholder for origin:\n%s", out)
	}
	if !strings.Contains(out, "Main ingredients (0)") {
		t.Fatalf("expected empty ingredient count:\n%s", out)
	}
}

func TestConfigHeaderAndFooter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FooterText = "Powered by Naija Nutri Hub"

	header := cfg.Header()
	for _, want := range []string{"Scan food image", "[Take Photo]", "[Add photos & files]", "[Scan Image]"} {
		if !strings.Contains(header, want) {
			t.Fatalf("expected %q in header %q", want, header)
		}
	}

	out := PresentWith(jollof(), cfg).Render()
	if !strings.Contains(out, "Powered by Naija Nutri Hub") {
		t.Fatalf("expected footer in output:\n%s", out)
	}
	if DefaultConfig().Footer() != "" {
		t.Fatal("default config should have no footer")
	}
}
