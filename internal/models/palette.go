package models

// ParticipantColors is the bounded palette participants are drawn from.
// Assignment prefers an unused color/emoji combination; when the palette is
// exhausted the least-used color and least-used emoji are picked independently.
var ParticipantColors = []string{
	"#E53E3E", // red
	"#DD6B20", // orange
	"#D69E2E", // yellow
	"#38A169", // green
	"#319795", // teal
	"#3182CE", // blue
	"#5A67D8", // indigo
	"#805AD5", // purple
	"#D53F8C", // pink
	"#718096", // gray
}

// ParticipantEmojis is the bounded emoji palette.
var ParticipantEmojis = []string{
	"🦊", "🐼", "🦉", "🐙", "🦜", "🐢", "🦒", "🐸", "🦔", "🐳",
}
