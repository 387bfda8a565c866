// Command smart manages annotation work queues: ingesting project items,
// filling and rebuilding queues, and reporting queue occupancy.
package main
