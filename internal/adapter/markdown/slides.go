package markdown

import "bytes"

// slidePrefixes are the literal front-matter openings CodiMD uses to mark a
// document as a slide deck (spec §4.3.1 step 6). Detection is a literal
// prefix match against the document's front matter, not full YAML parsing.
var slidePrefixes = [][]byte{
	[]byte("---\ntitle"),
	[]byte("---\ntype"),
	[]byte("---\nslideOptions"),
}

// isSlides reports whether doc's front matter marks it as a slide deck.
func isSlides(doc []byte) bool {
	for _, prefix := range slidePrefixes {
		if bytes.HasPrefix(doc, prefix) {
			return true
		}
	}
	return false
}
