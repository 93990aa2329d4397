// Package world assembles per-direction images into a cube-map world and
// extends existing worlds with exploration views.
package world

import (
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/previz/pkg/models"
)

var facePositions = map[models.Direction]models.Vec3{
	models.DirectionFront: {X: 0, Y: 0, Z: -1},
	models.DirectionBack:  {X: 0, Y: 0, Z: 1},
	models.DirectionLeft:  {X: -1, Y: 0, Z: 0},
	models.DirectionRight: {X: 1, Y: 0, Z: 0},
	models.DirectionUp:    {X: 0, Y: 1, Z: 0},
	models.DirectionDown:  {X: 0, Y: -1, Z: 0},
}

var faceHints = map[models.Direction]string{
	models.DirectionFront: "looking straight ahead",
	models.DirectionBack:  "looking back the way you came",
	models.DirectionLeft:  "looking to the left",
	models.DirectionRight: "looking to the right",
	models.DirectionUp:    "looking straight up",
	models.DirectionDown:  "looking straight down",
}

// PositionFor returns the unit vector of a direction. Cube faces use fixed
// axes; any other direction gets a stable vector derived from its name.
func PositionFor(d models.Direction) models.Vec3 {
	if v, ok := facePositions[d]; ok {
		return v
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(d))
	sum := h.Sum64()

	x := float64(int16(sum))
	y := float64(int16(sum >> 16))
	z := float64(int16(sum >> 32))
	n := math.Sqrt(x*x + y*y + z*z)
	if n == 0 {
		return facePositions[models.DirectionFront]
	}
	return models.Vec3{X: x / n, Y: y / n, Z: z / n}
}

// Hint returns the viewing hint appended to prompts for a direction
func Hint(d models.Direction) string {
	if h, ok := faceHints[d]; ok {
		return h
	}
	return fmt.Sprintf("looking toward the %s", d)
}

// FacePrompt builds the prompt for one cube face of a new world
func FacePrompt(prompt string, d models.Direction) string {
	return fmt.Sprintf("%s, %s view, %s", prompt, d, Hint(d))
}

// ExplorePrompt builds a continuity-aware prompt for extending w toward d
func ExplorePrompt(w *models.GeneratedWorld, d models.Direction) string {
	return fmt.Sprintf("%s, %s, same environment, continuing in %s direction", w.Prompt, Hint(d), d)
}

// NewView creates a view for an asset produced for direction d
func NewView(d models.Direction, asset string) models.DirectionalView {
	return models.DirectionalView{
		ID:        uuid.New().String(),
		Direction: d,
		Asset:     asset,
		Position:  PositionFor(d),
	}
}

// Assemble maps each cube face to its asset. Every face must be present with
// a non-empty asset; entries for other directions are ignored.
func Assemble(prompt string, assets map[models.Direction]string) (*models.GeneratedWorld, error) {
	var missing []models.Direction
	for _, d := range models.CanonicalDirections {
		if assets[d] == "" {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return nil, &models.IncompleteWorldError{Missing: missing}
	}

	views := make(map[models.Direction]models.DirectionalView, len(models.CanonicalDirections))
	for _, d := range models.CanonicalDirections {
		views[d] = NewView(d, assets[d])
	}
	return &models.GeneratedWorld{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Views:     views,
		Center:    models.Vec3{},
		CreatedAt: time.Now(),
	}, nil
}

// Merge returns a copy of w with view added, replacing any view already
// stored for the same direction. w is not modified.
func Merge(w *models.GeneratedWorld, view models.DirectionalView) *models.GeneratedWorld {
	out := *w
	out.Views = make(map[models.Direction]models.DirectionalView, len(w.Views)+1)
	maps.Copy(out.Views, w.Views)
	out.Views[view.Direction] = view
	return &out
}
