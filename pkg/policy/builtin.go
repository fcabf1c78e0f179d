package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		plaintextSecretsPolicy(),
		insecureURLPolicy(),
		emptyDocumentPolicy(),
	}
}

// plaintextSecretsPolicy blocks secrets written as plain strings, since
// anything rendered ends up world-readable in the Nix store.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "plaintext-secrets",
		Description: "Rejects password, secret and token attributes holding plain strings; use a *File attribute instead",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "secrets"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nixser.builtin.secrets

import rego.v1

secret_names := {"password", "secret", "token", "apikey", "api_key", "privatekey", "private_key"}

deny contains violation if {
	walk(input.data, [path, value])
	count(path) > 0
	key := path[count(path) - 1]
	is_string(key)
	lower(key) in secret_names
	is_string(value)
	value != ""
	p := concat(".", [sprintf("%v", [seg]) | some seg in path])
	violation := {
		"message": sprintf("attribute %s holds a plaintext secret", [p]),
		"path": p,
	}
}
`,
	}
}

// insecureURLPolicy warns about plain http URLs.
func insecureURLPolicy() Policy {
	return Policy{
		Name:        "insecure-urls",
		Description: "Warns about url attributes using plain http",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security", "fetchers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nixser.builtin.urls

import rego.v1

deny contains violation if {
	walk(input.data, [path, value])
	count(path) > 0
	path[count(path) - 1] == "url"
	is_string(value)
	startswith(lower(value), "http://")
	p := concat(".", [sprintf("%v", [seg]) | some seg in path])
	violation := {
		"message": sprintf("%s uses plain http: %s", [p, value]),
		"path": p,
	}
}
`,
	}
}

// emptyDocumentPolicy notes documents that render to an empty attribute set.
func emptyDocumentPolicy() Policy {
	return Policy{
		Name:        "empty-document",
		Description: "Reports documents without any attributes",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nixser.builtin.empty

import rego.v1

deny contains msg if {
	is_object(input.data)
	count(input.data) == 0
	msg := sprintf("%s has no attributes", [input.document])
}
`,
	}
}
