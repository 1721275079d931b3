package dispatcher

import "encoding/json"

// FormatRequest builds the kernel-language-specific assignment statement
// that injects the decoded request object. The value always travels as
// JSON, sidestepping lexical escaping differences between kernel
// languages.
func FormatRequest(bundle interface{}, kernelLanguage string) (string, error) {
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	switch kernelLanguage {
	case "perl":
		return "my $REQUEST = " + string(encoded), nil
	case "bash":
		return "REQUEST=" + string(encoded), nil
	default:
		return "REQUEST = " + string(encoded), nil
	}
}
