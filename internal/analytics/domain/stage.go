// Package domain holds the pure types of the fulfillment analytics engine:
// source records, the stage enumeration, resolved milestones, and the
// derived per-order metric.
package domain

import "fmt"

// Stage is one of the three fulfillment milestones an order moves through.
// It is a closed enumeration so absence and tie-break rules can be handled
// exhaustively instead of by string matching.
type Stage int

const (
	StagePackaged Stage = iota
	StageShipped
	StageDelivered

	// NumStages is the size of the Stage enumeration, usable as an array length.
	NumStages = 3
)

// String returns the wire name of the stage as recorded on fulfillment events.
func (s Stage) String() string {
	switch s {
	case StagePackaged:
		return "packaged"
	case StageShipped:
		return "shipped"
	case StageDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// ParseStage maps an event kind string to its Stage.
func ParseStage(kind string) (Stage, error) {
	switch kind {
	case "packaged":
		return StagePackaged, nil
	case "shipped":
		return StageShipped, nil
	case "delivered":
		return StageDelivered, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", kind)
	}
}

// AllStages lists every stage in pipeline order.
func AllStages() [NumStages]Stage {
	return [NumStages]Stage{StagePackaged, StageShipped, StageDelivered}
}
