package nats

const (
	subjectSeparator   = '.'
	tokenWildcard      = "*"
	trailingWildcard   = ">"
	inboxSubjectPrefix = "_INBOX."
)

func isWhitespace(character byte) bool {
	return character == ' ' || character == '\t' || character == '\r' || character == '\n'
}

func splitSubjectTokens(subject string) []string {
	tokens := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(subject); i++ {
		if subject[i] == subjectSeparator {
			tokens = append(tokens, subject[start:i])
			start = i + 1
		}
	}
	return append(tokens, subject[start:])
}

// ValidateSubject checks a subject or subject pattern against the protocol
// rules: non-empty dot-separated tokens with no whitespace. With
// allowWildcards, "*" may stand for one token and ">" may terminate the
// pattern; partial wildcard tokens such as "abc*" are always rejected. With
// allowWildcards false, "*" and ">" are rejected as well so the subject can
// only be used literally.
func ValidateSubject(subject string, allowWildcards bool) error {
	if len(subject) == 0 {
		return NewError(InvalidSubjectError, "subject is empty")
	}

	for i := 0; i < len(subject); i++ {
		if isWhitespace(subject[i]) {
			return NewError(InvalidSubjectError, "subject '"+subject+"' contains whitespace")
		}
	}

	tokens := splitSubjectTokens(subject)
	for position, token := range tokens {
		if len(token) == 0 {
			return NewError(InvalidSubjectError, "subject '"+subject+"' contains an empty token")
		}

		switch token {
		case tokenWildcard:
			if !allowWildcards {
				return NewError(InvalidSubjectError, "subject '"+subject+"' uses a wildcard where wildcards are disabled")
			}
		case trailingWildcard:
			if !allowWildcards {
				return NewError(InvalidSubjectError, "subject '"+subject+"' uses a wildcard where wildcards are disabled")
			}
			if position != len(tokens)-1 {
				return NewError(InvalidSubjectError, "subject '"+subject+"' uses '>' before the final token")
			}
		default:
			for i := 0; i < len(token); i++ {
				if token[i] == '*' || token[i] == '>' {
					return NewError(InvalidSubjectError, "subject '"+subject+"' contains a partial wildcard token '"+token+"'")
				}
			}
		}
	}

	return nil
}

// ValidateQueueName checks a queue-group name: one non-empty token, no
// whitespace, no wildcards.
func ValidateQueueName(queue string) error {
	if len(queue) == 0 {
		return NewError(SubscriptionError, "queue name is empty")
	}
	for i := 0; i < len(queue); i++ {
		if isWhitespace(queue[i]) || queue[i] == '*' || queue[i] == '>' || queue[i] == subjectSeparator {
			return NewError(SubscriptionError, "queue name '"+queue+"' contains an invalid character")
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches a pattern. A
// pattern token "*" matches exactly one subject token and a trailing ">"
// matches one or more remaining tokens; otherwise tokens must match exactly,
// position by position, with equal token counts. Neither side is validated
// here; malformed input simply fails to match.
func MatchSubject(subject string, pattern string) bool {
	if subject == pattern {
		return true
	}

	subjectTokens := splitSubjectTokens(subject)
	patternTokens := splitSubjectTokens(pattern)

	for i, patternToken := range patternTokens {
		if patternToken == trailingWildcard && i == len(patternTokens)-1 {
			// ">" needs at least one token left to consume.
			return len(subjectTokens) > i
		}
		if i >= len(subjectTokens) {
			return false
		}
		if patternToken == tokenWildcard {
			continue
		}
		if patternToken != subjectTokens[i] {
			return false
		}
	}

	return len(subjectTokens) == len(patternTokens)
}
