package alignment

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"colocation/cmd/internal/anchor"

	"github.com/google/uuid"
)

type stubHandle struct {
	id        uuid.UUID
	pose      anchor.Pose
	localized bool
}

func (h stubHandle) ID() uuid.UUID     { return h.id }
func (h stubHandle) Created() bool     { return true }
func (h stubHandle) Localized() bool   { return h.localized }
func (h stubHandle) Pose() anchor.Pose { return h.pose }

func quietRig() *Rig {
	return NewRig(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRig_AlignToMakesAnchorTheOrigin(t *testing.T) {
	t.Parallel()

	pose := anchor.Pose{
		Position:    anchor.Vec3{X: 1, Y: 0, Z: 2},
		Orientation: anchor.AxisAngle(anchor.Vec3{Y: 1}, math.Pi/2),
	}
	h := stubHandle{id: uuid.New(), pose: pose, localized: true}

	r := quietRig()
	r.AlignTo(h)

	if got := r.ToShared(pose.Position); !near(got, anchor.Vec3{}) {
		t.Fatalf("ToShared(anchor)=%+v want origin", got)
	}

	local := anchor.Vec3{X: 0.5, Y: 1.5, Z: -3}
	if got := r.ToShared(pose.Apply(local)); !near(got, local) {
		t.Fatalf("ToShared(pose.Apply(%+v))=%+v", local, got)
	}

	target, ok := r.Target()
	if !ok || target.ID() != h.id {
		t.Fatalf("Target()=%v,%v want %v", target, ok, h.id)
	}
	if r.Alignments() != 1 {
		t.Fatalf("Alignments()=%d want=1", r.Alignments())
	}
}

func TestRig_TwoDevicesAgreeOnSharedFrame(t *testing.T) {
	t.Parallel()

	// The same physical anchor, observed from two tracking spaces.
	id := uuid.New()
	hostPose := anchor.Pose{Position: anchor.Vec3{X: 2, Z: -1}, Orientation: anchor.IdentityQuat()}
	clientPose := anchor.Pose{
		Position:    anchor.Vec3{X: -4, Y: 0.1, Z: 3},
		Orientation: anchor.AxisAngle(anchor.Vec3{Y: 1}, math.Pi),
	}

	host, client := quietRig(), quietRig()
	host.AlignTo(stubHandle{id: id, pose: hostPose, localized: true})
	client.AlignTo(stubHandle{id: id, pose: clientPose, localized: true})

	// A point one metre above the anchor.
	above := anchor.Vec3{Y: 1}
	a := host.ToShared(hostPose.Apply(above))
	b := client.ToShared(clientPose.Apply(above))
	if !near(a, b) {
		t.Fatalf("host=%+v client=%+v", a, b)
	}
}

func TestRig_IgnoresUnlocalized(t *testing.T) {
	t.Parallel()

	r := quietRig()
	r.AlignTo(stubHandle{id: uuid.New(), pose: anchor.Pose{Position: anchor.Vec3{X: 5}, Orientation: anchor.IdentityQuat()}})
	r.AlignTo(nil)

	if r.Alignments() != 0 {
		t.Fatalf("Alignments()=%d want=0", r.Alignments())
	}
	if !r.Offset().ApproxEqual(anchor.IdentityPose(), 1e-12) {
		t.Fatalf("Offset()=%+v want identity", r.Offset())
	}
	if _, ok := r.Target(); ok {
		t.Fatalf("Target() should be unset")
	}
}

func near(a, b anchor.Vec3) bool {
	const tol = 1e-9
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}
