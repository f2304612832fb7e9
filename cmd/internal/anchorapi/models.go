package anchorapi

import (
	"time"

	"colocation/cmd/internal/anchor"
)

type vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type pose struct {
	Position    vec3 `json:"position"`
	Orientation quat `json:"orientation"`
}

type saveRequest struct {
	Pose pose `json:"pose"`
}

type shareRequest struct {
	AnchorIDs []string `json:"anchor_ids"`
}

type shareResponse struct {
	Group  string `json:"group"`
	Shared int    `json:"shared"`
}

type anchorResponse struct {
	ID      string    `json:"id"`
	Pose    pose      `json:"pose"`
	SavedAt time.Time `json:"saved_at"`
}

type groupResponse struct {
	Group   string           `json:"group"`
	Anchors []anchorResponse `json:"anchors"`
}

func toPose(p anchor.Pose) pose {
	return pose{
		Position:    vec3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: quat{X: p.Orientation.X, Y: p.Orientation.Y, Z: p.Orientation.Z, W: p.Orientation.W},
	}
}

func (p pose) anchorPose() anchor.Pose {
	return anchor.Pose{
		Position:    anchor.Vec3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: anchor.Quat{X: p.Orientation.X, Y: p.Orientation.Y, Z: p.Orientation.Z, W: p.Orientation.W},
	}
}

func toAnchorResponse(a anchor.StoredAnchor) anchorResponse {
	return anchorResponse{ID: a.ID.String(), Pose: toPose(a.Pose), SavedAt: a.SavedAt}
}
