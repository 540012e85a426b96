// Package opaqueid encodes and decodes the namespaced opaque identifiers
// exposed through the public API. An opaque ID is the base64 encoding of
// "<namespace>:<internal id>".
package opaqueid

import (
	"encoding/base64"
	"strings"
)

// Namespaces for entities whose IDs cross the API boundary.
const (
	NamespaceCart     = "reaction/cart"
	NamespaceCartItem = "reaction/cartItem"
	NamespaceDiscount = "reaction/discount"
	NamespaceProduct  = "reaction/product"
	NamespaceShop     = "reaction/shop"
)

// Encode produces the opaque form of an internal ID under the namespace.
func Encode(namespace, id string) string {
	return base64.StdEncoding.EncodeToString([]byte(namespace + ":" + id))
}

// Decode splits an opaque ID into its namespace and internal ID. Values that
// are not base64 or carry no namespace separator are treated as bare internal
// IDs and returned unchanged with an empty namespace.
func Decode(opaque string) (namespace, id string) {
	decoded, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", opaque
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "reaction/") {
		return "", opaque
	}
	return parts[0], parts[1]
}

// DecodeForNamespace returns the internal ID when the opaque value belongs to
// the given namespace, otherwise it returns the input unchanged.
func DecodeForNamespace(namespace, opaque string) string {
	ns, id := Decode(opaque)
	if ns == namespace {
		return id
	}
	return opaque
}
