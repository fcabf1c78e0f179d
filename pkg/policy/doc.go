// Package policy gates rendering with Open Policy Agent (OPA) Rego policies.
//
// Every policy is a Rego module whose package defines a deny set. The
// engine evaluates data.<package>.deny with an Input holding the loaded
// document as plain data:
//
//	package hosts.firewall
//
//	# Hosts must keep the firewall on.
//	# severity: error
//
//	deny contains msg if {
//		input.data.networking.firewall.enable == false
//		msg := "the firewall must stay enabled"
//	}
//
// A deny entry is a message string or an object with "message", and
// optionally "severity" and "path", keys. Entries with error or critical
// severity block the render; the rest are reported as warnings.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithBuiltins())
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//		return err
//	}
//
//	result, err := eng.Evaluate(ctx, &policy.Input{
//		Document: doc.Name,
//		Format:   string(doc.Format),
//		Data:     doc.Data(),
//	})
//
// # Sources
//
// Policies load from .rego files (named after the file), JSON policy
// definitions, *.bundle.json bundles and directories holding any of them.
// Files ending in _test.rego are skipped.
//
// # Built-in Policies
//
//  1. plaintext-secrets - password, secret and token attributes holding strings
//  2. insecure-urls - url attributes using plain http (warning)
//  3. empty-document - documents without attributes (info)
package policy
