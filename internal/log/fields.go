package log

// Canonical field name constants for structured logging.
const (
	FieldEvent     = "event"
	FieldComponent = "component"

	// Remote connection fields
	FieldRemote = "remote"
	FieldSlot   = "slot"
	FieldLayer  = "layer"

	// Sync fields
	FieldMode        = "mode"
	FieldTargetFrame = "target_frame"
	FieldDrift       = "drift"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
