// Package graph models the schema objects taking part in a migration and
// orders them into a deterministic execution sequence.
//
// A Graph holds Items (simple objects and containers) and Groups. Items
// reference each other through Requires/RequiredBy edges; a reference to a
// Group stands for every member of that Group. Containers own children: a
// container opens before its children and is closed by a synthetic head entry
// that follows all of them.
//
// Sorter turns a Graph into a Sequence. Sorting is pure: the same Graph and
// tie-break setting always produce the same Sequence.
package graph
