// Package layout implements the index arithmetic for a complete binary tree
// of fixed depth.
//
// Nodes are numbered 1 based, in level order, so that for any node i the
// children are at 2i and 2i+1 and the parent is at i/2. The root is node 1.
// For a tree of depth D the leaves occupy the contiguous index range
// [2^D, 2^(D+1)).
//
//	depth 2:
//
//	           1
//	         /   \
//	        2     3
//	       / \   / \
//	      4   5 6   7
//
// Everything in this package is pure arithmetic over indices. No node values
// are read or written here, and no assumptions are made about how the nodes
// are stored. The storage packages confine all byte offset computation to
// these functions so that raw address arithmetic never leaks to callers.
package layout
