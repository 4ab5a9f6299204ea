/*
Package forkline rotates automated work across a chain of forked repositories,
one per worker identity, so that no identity runs past its metered quota.

# Concept

The controller keeps a single persisted aggregate: the fork chain. The root
Source repository is forked by identity 0, that fork by identity 1, and so on.
Exactly one fork is Active at a time. When the quota probe reports the active
identity as exhausted, its workflow is disabled, the node is marked Exhausted,
and the active pointer advances to the next identity around the ring.

Rotation never creates forks. Creating the fork for the new active identity is
an explicit operation, so a scheduled check can run any number of times
without duplicating work.

# Layout

  - pkg/domain: the fork chain aggregate, identities, proxy bindings, quota reports.
  - pkg/ports: the StateStore, Remote, Connector and DistributedLocker contracts.
  - pkg/persistence/middleware: StateStore decorators for chain integrity and logging.
  - pkg/retry: bounded exponential backoff shared by every remote call.
  - internal/fork, internal/rotation, internal/quota: the lifecycle and decision loop.
  - internal/adapters: GitHub REST, file and Redis state, HTTP and MCP surfaces.
  - cmd/forkline: the command line.

# Usage

	forkline fork source origin/project
	forkline fork create
	forkline rotate
	forkline status
	forkline cleanup
*/
package forkline
