// Package voice holds the catalog of speech voices a call can use and the
// persisted choice of which one is active.
//
// # Resolving a voice
//
// Resolve accepts a catalog name ("orion"), a model ID ("aura-2-orion-en")
// or a loose description such as "british male". Descriptions are scored:
// a gender keyword is worth 3 points, each matching accent keyword 5, and the
// voice's own name appearing anywhere in the query 10. The highest score
// wins; ties go to the voice listed first.
//
//	model, ok := voice.Resolve("female german")
//	// model == "aura-2-aurelia-de", ok == true
//
// # Persisting the choice
//
// A Store keeps the selected model in a one-line text file. The selection
// takes effect on the next call; calls in progress keep their voice.
package voice
