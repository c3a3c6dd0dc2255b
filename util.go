// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "strings"

const (
	tsep  = "."
	pwc   = '*'
	fwc   = '>'
)

// validateSubject checks subject against the grammar spec.md §6 defines:
// dot-separated tokens of printable, non-whitespace ASCII excluding
// '.', '*', '>'; '*' matches exactly one token, '>' matches one-or-more
// trailing tokens and is legal only as the final token. wildcardsOK gates
// whether '*'/'>' tokens are accepted at all (publish subjects must be
// fully literal; subscribe subjects may carry wildcards).
func validateSubject(subject string, wildcardsOK bool) error {
	if subject == "" {
		return ErrBadSubject
	}
	tokens := strings.Split(subject, tsep)
	for i, tok := range tokens {
		switch {
		case tok == "":
			return ErrBadSubject
		case tok == string(fwc):
			if !wildcardsOK || i != len(tokens)-1 {
				return ErrBadSubject
			}
		case tok == string(pwc):
			if !wildcardsOK {
				return ErrBadSubject
			}
		default:
			if err := validateToken(tok); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateToken(tok string) error {
	for _, r := range tok {
		if r <= ' ' || r == 0x7f {
			return ErrBadSubject
		}
		if r == '.' || r == '*' || r == '>' {
			return ErrBadSubject
		}
	}
	return nil
}

// validateQueueName applies the same token rules as a single subject
// token: no whitespace, no subject-special characters.
func validateQueueName(queue string) error {
	if queue == "" {
		return ErrBadQueueName
	}
	if validateToken(queue) != nil {
		return ErrBadQueueName
	}
	return nil
}

// subjectMatches reports whether literal (a concrete, wildcard-free
// subject as delivered by the server) matches pattern (a subscribe-side
// subject that may carry '*'/'>'). Only the package's unit tests call it;
// the real server performs this matching, so production code never needs
// it, per spec.md §4.4 ("Queue-group semantics are enforced by the
// server").
func subjectMatches(pattern, literal string) bool {
	pt := strings.Split(pattern, tsep)
	lt := strings.Split(literal, tsep)
	for i, tok := range pt {
		if tok == string(fwc) {
			return i < len(lt)
		}
		if i >= len(lt) {
			return false
		}
		if tok == string(pwc) {
			continue
		}
		if tok != lt[i] {
			return false
		}
	}
	return len(pt) == len(lt)
}
