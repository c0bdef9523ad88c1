package i18n

// germanMessages contains all German translations.
var germanMessages = map[string]string{
	// Error messages, one per error kind
	"error.generic":         "Etwas ist schiefgelaufen. Bitte versuche es erneut.",
	"error.unknown":         "Etwas ist schiefgelaufen. Bitte versuche es erneut.",
	"error.unauthenticated": "Deine Sitzung ist abgelaufen. Bitte melde dich erneut an.",
	"error.not_found":       "Gerät oder Eintrag nicht gefunden. Aktualisiere und versuche es erneut.",
	"error.forbidden":       "Spotify hat die Anfrage abgelehnt. Die Wiedergabesteuerung erfordert Premium.",
	"error.restricted":      "Dieses Gerät nimmt gerade keine Fernbefehle an.",
	"error.rate_limited":    "Zu viele Anfragen. Bitte warte einen Moment.",
	"error.transient":       "Spotify hat gerade Probleme. Bitte versuche es gleich noch einmal.",
	"error.invalid_state":   "Das Gerät konnte die Wiedergabe nicht übernehmen. Öffne Spotify darauf und versuche es erneut.",
	"error.vanished":        "Das Gerät ist offline gegangen, bevor die Wiedergabe wechseln konnte.",

	// Device switch prompt
	"prompt.switch_device":   "Wiedergabebefehle sind %d-mal hintereinander fehlgeschlagen. Zu deinem Gerät vom Typ %s wechseln?",
	"prompt.button_continue": "Gerät behalten",
	"prompt.button_switch":   "Gerät wechseln",

	// Success messages
	"success.transferred":   "Wiedergabe auf %s verschoben.",
	"success.already_there": "%s spielt bereits.",
	"success.logged_in":     "Angemeldet als %s.",
	"success.logged_out":    "Abgemeldet.",

	// Status formatting
	"format.now_playing": "Läuft gerade: %s - %s auf %s",
	"format.paused":      "Pausiert: %s - %s auf %s",
	"format.nothing":     "Es läuft nichts.",
	"format.device":      "%s (%s)",
}
