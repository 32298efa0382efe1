package controller

import "fmt"

// NamespaceNotFoundError reports that a namespace the controller depends on but does not manage is missing.
type NamespaceNotFoundError struct {
	Namespace string
}

func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %q not found", e.Namespace)
}
