// feedkit is a toolkit for building feed collection pipelines. It ingests
// data from many independently-polled external sources, assigns each observed
// item a stable identity, and guarantees each identity is persisted exactly
// once no matter how many times or from how many sources it is observed.
//
// The pieces of the pipeline, leaf to root:
//
// 1. Source
//
//    A feedkit.Source is at the beginning of every collection journey. Your
//    data is everywhere - S3 buckets, local files, Kafka topics, HTTP APIs,
//    hard-coded in tests. Different Sources know how to interact with the
//    various systems holding your data and get it out one Candidate at a
//    time, all wrapped up behind one convenient interface. A Source does not
//    interpret the data it fetches - a Candidate's payload is opaque to the
//    rest of the pipeline.
//
// 2. Keyer
//
//    The Keyer derives a stable natural key from a Candidate - the string
//    which identifies "the same real-world item" across sources and time.
//    Keyers compose into chains of pure transforms (path extraction, field
//    concatenation, normalization, date-part extraction) so that per-feed
//    configuration can describe arbitrary identity rules without any of them
//    living in the core.
//
// 3. Dedup
//
//    The Dedup engine takes a Candidate and its key and decides whether this
//    is the first time the item has ever been seen. New items become durable
//    Records; every observation, new or duplicate, is remembered as a
//    Sighting in an append-only audit trail. Exactly one Sighting per key
//    ever carries IsNew=true, even with concurrent writers.
//
// 4. Governor and Checkpoints
//
//    The Governor wraps every externally-visible operation with a token
//    bucket, a per-source concurrency bound, and transient-error retry. The
//    CheckpointManager remembers, per feed, the last position that was fully
//    and durably processed so an interrupted run can resume without losing
//    or duplicating work.
//
// The Ingester ties these together, and the Planner decides - for feeds with
// several overlapping, differently-priced backing sources - which source
// should serve which sub-range of a requested collection window.

package feedkit
