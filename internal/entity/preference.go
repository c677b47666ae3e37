package entity

// NotificationPermission mirrors the dashboard's notification permission grant.
type NotificationPermission string

const (
	PermissionGranted NotificationPermission = "granted"
	PermissionDenied  NotificationPermission = "denied"
	PermissionDefault NotificationPermission = "default"
)

// UserPreference is the subset of user settings the sync core consults when
// dispatching notification side effects.
type UserPreference struct {
	SoundEnabled           bool                   `json:"sound_enabled"`
	NotificationPermission NotificationPermission `json:"notification_permission"`
}
