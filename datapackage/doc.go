// Package datapackage builds client data packages and mission packages from
// two-tier template trees.
//
// # Resolution
//
// A DataPackageRequest names a template path relative to the roots of its
// package type. Locator resolves it against the default root and, when an
// addon folder is configured, the override root. If both exist they must
// agree on being a file or a directory; a disagreement is reported as
// interfaces.ErrConfiguration. Bundle file lists are built by walking the
// default tree then the override tree in lexical order, override entries
// replacing default entries of the same relative path.
//
// # Rendering
//
// Files ending in ".tpl" are text/template templates evaluated against a
// RenderContext exposed as ".v" (for example {{ .v.client_cert_name }}).
// Referencing a name that is not in the context is an error. The ".tpl"
// suffix is stripped from the output name.
//
// # Mission packages
//
// A rendered manifest.xml in a mission package is scanned for .p12
// references before it is moved into place. The CA trust store and the
// user's identity container are generated next to it.
//
// # Assembly
//
// Assembler builds each requested package in its own scratch directory, in
// parallel, and zips it with members in sorted order. Scratch directories
// belong to the caller once returned and must be handed to a CleanupQueue.
package datapackage
