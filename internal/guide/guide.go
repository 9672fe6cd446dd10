// Package guide renders a structured discussion guide into the instructions
// handed to the voice agent at call start.
package guide

import (
	"fmt"
	"strings"
)

// Item is one topic in a discussion guide.
type Item struct {
	// Topic is the heading the moderator should cover.
	Topic string `yaml:"topic" json:"topic"`

	// Probes are optional follow-up questions under the topic.
	Probes []string `yaml:"probes,omitempty" json:"probes,omitempty"`
}

// Format renders the guide as numbered instructions for the voice agent,
// preserving topic order. An empty guide renders to "".
func Format(items []Item) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Work through the following discussion guide in order. ")
	b.WriteString("Cover every topic, probing where noted, before wrapping up.\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Topic)
		for _, probe := range item.Probes {
			fmt.Fprintf(&b, "   - %s\n", probe)
		}
	}
	return b.String()
}
