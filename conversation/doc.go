// Package conversation assembles the coding-assistant workflow: a
// scope-definition step grounded on documentation, a code-writing step
// that streams its output, a human-in-the-loop gate, and an intent
// router that either loops back for another round of coding or closes
// the conversation with a farewell.
package conversation
