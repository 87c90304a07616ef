package screening

import "strings"

// Kind is the input widget a question needs.
type Kind string

const (
	Binary      Kind = "binary"
	Demographic Kind = "demographic"
)

// Widget names the control a front end should render for the kind.
func (k Kind) Widget() string {
	if k == Demographic {
		return "text"
	}
	return "yes_no"
}

var demographicKeywords = []string{
	"your name", "how old", "gender", "country", "ethnicity",
	"relation", "jaundice", "used an asd",
}

// Classify reports whether a question asks for free text (name, age,
// gender, ...) or a yes/no answer. It only picks the widget; scoring never
// sees it.
func Classify(question string) Kind {
	return classify(question, demographicKeywords)
}

// Classifier is Classify with a keyword list taken from a Script.
type Classifier struct {
	keywords []string
}

func (c Classifier) Classify(question string) Kind {
	if len(c.keywords) == 0 {
		return Classify(question)
	}
	return classify(question, c.keywords)
}

func classify(question string, keywords []string) Kind {
	q := strings.ToLower(question)
	if containsAny(q, keywords) {
		return Demographic
	}
	return Binary
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
