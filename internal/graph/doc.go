// Package graph models the host runtime's operator graphs: single-assignment
// values, topologically ordered nodes, and nested subgraphs on fusion nodes.
// A graph's Block is its structural identity for the life of that instance.
package graph
