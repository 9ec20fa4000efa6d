// Package synthesis turns a listening-session transcript into structured
// reading notes with an LLM.
//
// The prompt combines the transcript with a packed reading context (current
// book, shelves, recent notes). The model's JSON answer is decoded into a
// listening.Synthesis; items may arrive either as {"title","content"} objects
// or bare strings, and empty entries are dropped.
package synthesis
