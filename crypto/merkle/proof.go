package merkle

import (
	"bytes"
	"errors"
	"fmt"
)

// Operation is one step of the proof evaluation stack machine.
type Operation uint8

const (
	// OpConsumeProof pushes the next proof hash.
	OpConsumeProof Operation = iota
	// OpConsumeInput leaf-hashes the next caller-supplied item and pushes it.
	OpConsumeInput
	// OpHash pops two nodes and pushes their inner hash.
	OpHash
)

var (
	ErrProofMalformed  = errors.New("merkle: malformed proof")
	ErrProofUnbalanced = errors.New("merkle: proof leaves unconsumed nodes")
)

// Proof is a compact inclusion proof for a subset of a tree's leaves.
// Evaluating the operations against the subset recomputes the root; subtrees
// without any proven leaf are collapsed into a single proof hash.
type Proof struct {
	Hashes     [][]byte
	Operations []Operation
}

// ComputeRoot replays the proof against the given leaf items (in tree order)
// and returns the resulting root.
func (p *Proof) ComputeRoot(items [][]byte) ([]byte, error) {
	if len(items) == 0 && len(p.Operations) == 0 {
		return emptyHash(), nil
	}

	var stack [][]byte
	proofIdx, inputIdx := 0, 0

	for _, op := range p.Operations {
		switch op {
		case OpConsumeProof:
			if proofIdx >= len(p.Hashes) {
				return nil, fmt.Errorf("%w: proof hash index %d out of range", ErrProofMalformed, proofIdx)
			}
			stack = append(stack, p.Hashes[proofIdx])
			proofIdx++

		case OpConsumeInput:
			if inputIdx >= len(items) {
				return nil, fmt.Errorf("%w: input index %d out of range", ErrProofMalformed, inputIdx)
			}
			stack = append(stack, leafHash(items[inputIdx]))
			inputIdx++

		case OpHash:
			if len(stack) < 2 {
				return nil, fmt.Errorf("%w: hash op on stack of %d", ErrProofMalformed, len(stack))
			}
			left, right := stack[len(stack)-2], stack[len(stack)-1]
			stack = append(stack[:len(stack)-2], innerHash(left, right))

		default:
			return nil, fmt.Errorf("%w: unknown operation %d", ErrProofMalformed, op)
		}
	}

	if len(stack) != 1 || proofIdx != len(p.Hashes) || inputIdx != len(items) {
		return nil, ErrProofUnbalanced
	}
	return stack[0], nil
}

// BuildProof constructs a proof for the leaves flagged in include. The caller
// later supplies exactly those leaves, in order, to ComputeRoot.
func BuildProof(leaves [][]byte, include []bool) (*Proof, error) {
	if len(leaves) != len(include) {
		return nil, fmt.Errorf("%w: %d leaves, %d include flags", ErrProofMalformed, len(leaves), len(include))
	}
	p := &Proof{}
	if len(leaves) == 0 {
		return p, nil
	}
	buildProof(p, leaves, include)
	return p, nil
}

// returns the subtree root and whether the subtree contains a proven leaf
func buildProof(p *Proof, leaves [][]byte, include []bool) ([]byte, bool) {
	if len(leaves) == 1 {
		h := leafHash(leaves[0])
		if include[0] {
			p.Operations = append(p.Operations, OpConsumeInput)
		} else {
			p.Operations = append(p.Operations, OpConsumeProof)
			p.Hashes = append(p.Hashes, h)
		}
		return h, include[0]
	}

	k := getSplitPoint(len(leaves))

	opMark := len(p.Operations)
	hashMark := len(p.Hashes)
	leftRoot, leftAny := buildProof(p, leaves[:k], include[:k])
	rightRoot, rightAny := buildProof(p, leaves[k:], include[k:])
	root := innerHash(leftRoot, rightRoot)

	if !leftAny && !rightAny {
		// collapse the whole subtree into one proof hash
		p.Operations = append(p.Operations[:opMark], OpConsumeProof)
		p.Hashes = append(p.Hashes[:hashMark], root)
		return root, false
	}

	p.Operations = append(p.Operations, OpHash)
	return root, true
}

// Equal reports whether two roots are equal, treating nil as distinct from
// any hash.
func Equal(a, b []byte) bool {
	return a != nil && b != nil && bytes.Equal(a, b)
}
