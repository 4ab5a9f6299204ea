/*
Package domain contains the core models of the fork rotation controller.

It defines the identity pool, the proxy bindings, the fork chain and the
orchestrator state aggregate. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Identity: a worker credential drawn from a fixed pool, indexed by position.
  - ProxyBinding: the fixed egress route assigned to one identity.
  - ForkNode: one derived workspace tracked by the controller, with a lifecycle status.
  - State: the root aggregate persisted as a single unit (chain, active index, pool size).
  - QuotaReport: the normalized result of probing an identity's remote usage.
*/
package domain
