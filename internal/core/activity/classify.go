package activity

import "strings"

// vocabulary is the set of ActivityStreams types accepted by IsActivityPub.
var vocabulary = map[string]struct{}{
	// Actors
	"Application": {}, "Group": {}, "Organization": {}, "Person": {}, "Service": {},
	// Activities
	"Accept": {}, "Add": {}, "Announce": {}, "Arrive": {}, "Block": {}, "Create": {},
	"Delete": {}, "Dislike": {}, "Flag": {}, "Follow": {}, "Ignore": {}, "Invite": {},
	"Join": {}, "Leave": {}, "Like": {}, "Listen": {}, "Move": {}, "Offer": {},
	"Question": {}, "Read": {}, "Reject": {}, "Remove": {}, "TentativeAccept": {},
	"TentativeReject": {}, "Travel": {}, "Undo": {}, "Update": {}, "View": {},
	// Objects and links
	"Article": {}, "Audio": {}, "Document": {}, "Event": {}, "Image": {}, "Note": {},
	"Page": {}, "Place": {}, "Profile": {}, "Relationship": {}, "Tombstone": {},
	"Video": {}, "Link": {}, "Mention": {}, "Hashtag": {}, "Emoji": {},
	// Collections
	"Collection": {}, "CollectionPage": {}, "OrderedCollection": {}, "OrderedCollectionPage": {},
}

// IsVocabularyType reports whether t is a known ActivityStreams type.
func IsVocabularyType(t string) bool {
	_, ok := vocabulary[t]
	return ok
}

// AcceptableContentType reports whether a response may carry ActivityPub JSON.
func AcceptableContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/activity+json") ||
		strings.Contains(ct, "application/json") ||
		strings.Contains(ct, "application/ld+json")
}

// IsActivityPub classifies a decoded JSON document. The first matching rule
// wins:
//  1. the content type names activity+json
//  2. the object has @context
//  3. the object's type, or any string in a type list, is in the vocabulary
//  4. the object has an id
//  5. the document is an array whose first element is an object with
//     @context or type
func IsActivityPub(doc any, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "activity+json") {
		return true
	}

	switch v := doc.(type) {
	case map[string]any:
		if _, ok := v["@context"]; ok {
			return true
		}
		if hasVocabularyType(v["type"]) {
			return true
		}
		_, ok := v["id"]
		return ok
	case []any:
		if len(v) == 0 {
			return false
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return false
		}
		_, hasContext := first["@context"]
		_, hasType := first["type"]
		return hasContext || hasType
	default:
		return false
	}
}

func hasVocabularyType(t any) bool {
	switch v := t.(type) {
	case string:
		return IsVocabularyType(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && IsVocabularyType(s) {
				return true
			}
		}
	}
	return false
}
