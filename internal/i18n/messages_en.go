package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Error messages, one per error kind
	"error.generic":         "Something went wrong. Please try again.",
	"error.unknown":         "Something went wrong. Please try again.",
	"error.unauthenticated": "Your session has expired. Please log in again.",
	"error.not_found":       "The device or item could not be found. Refresh and try again.",
	"error.forbidden":       "Spotify refused the request. Playback control requires a Premium account.",
	"error.restricted":      "This device does not accept remote commands right now.",
	"error.rate_limited":    "Too many requests. Please wait a moment.",
	"error.transient":       "Spotify is having trouble. Please try again shortly.",
	"error.invalid_state":   "The device could not take over playback. Open Spotify on it and try again.",
	"error.vanished":        "The device went offline before playback could move to it.",

	// Device switch prompt
	"prompt.switch_device":   "Playback commands failed %d times in a row. Switch to your %s?",
	"prompt.button_continue": "Keep this device",
	"prompt.button_switch":   "Switch device",

	// Success messages
	"success.transferred":   "Playback moved to %s.",
	"success.already_there": "%s is already playing.",
	"success.logged_in":     "Logged in as %s.",
	"success.logged_out":    "Logged out.",

	// Status formatting
	"format.now_playing": "Now playing: %s - %s on %s",
	"format.paused":      "Paused: %s - %s on %s",
	"format.nothing":     "Nothing is playing.",
	"format.device":      "%s (%s)",
}
