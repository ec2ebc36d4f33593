// Package mentions strips or normalizes at-mentions in inbound chat messages.
//
// Mentions arrive as "mention" entities on a bus.InboundMessage, each holding
// the literal markup found in the text (for example "<at>Alice</at>") and the
// ID of the mentioned participant. Mentions of the conversation's bot and
// mentions of anyone else are handled with independent RemoveBehavior values:
//
//	full  delete the mention markup entirely
//	tags  keep the display name between <at> and </at>
//	none  leave the text alone
//
// The Middleware type applies both behaviors as one step of a
// pipeline.Set and either attaches the result as a "strippedText" entity or
// overwrites the message content, keeping the original in an "originalText"
// entity.
package mentions
