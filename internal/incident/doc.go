// Package incident is the core of faultline. It defines the Incident
// aggregate and its state machine, the Store interface, the Dispatcher that
// routes incidents to remediation capabilities, the retrospective report
// builder, and the Service that orchestrates the lifecycle from detection to
// closure.
package incident
