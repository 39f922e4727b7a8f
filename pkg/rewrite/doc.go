// Package rewrite rephrases message text through an OpenAI-compatible chat
// completions API before SMS fan-out.
package rewrite
