/*
Package ports defines the driven ports (interfaces) of the rotation controller.

These interfaces decouple the core logic from external implementations, allowing
the controller to work with various storage backends, remote services and
notification channels.

# Key Interfaces

  - StateStore: durable, whole-aggregate persistence of the orchestrator State.
  - Remote: the operations the core needs from the remote fork/workspace service.
  - Connector: builds a Remote bound to one identity and its optional proxy.
  - DistributedLocker: a lease over the rotation cycle across processes.
  - Notifier: best-effort delivery of operator alerts.
*/
package ports
