package slurm

import "roced/pkg/batch"

// RequiredCPUs implements the Requirement Adapter's per-job classification
// (spec §4.3 step 2): dependency-held jobs contribute only to the
// diagnostic dependencyCPUs counter, partition-time-limit holds and
// cancelled jobs are ignored outright, pending jobs count pn_min_cpus times
// the array multiplicity, running jobs count pn_min_cpus once, and any
// other state is reported through unknown for the caller to log.
func RequiredCPUs(jobs []batch.Job) (requiredCPUs, dependencyCPUs int, unknown []batch.Job) {
	for _, j := range jobs {
		switch {
		case j.Reason == batch.ReasonDependency:
			dependencyCPUs += j.MinCPUs
		case j.Reason == batch.ReasonPartitionTimeLimit:
			// ignored
		case j.State == batch.JobCancelled:
			// ignored
		case j.State == batch.JobPending:
			requiredCPUs += j.MinCPUs * Multiplicity(j.ArrayTaskStr)
		case j.State == batch.JobRunning:
			requiredCPUs += j.MinCPUs
		default:
			unknown = append(unknown, j)
		}
	}
	return requiredCPUs, dependencyCPUs, unknown
}

// FilterPartition returns only the jobs belonging to partition.
func FilterPartition(jobs []batch.Job, partition string) []batch.Job {
	out := make([]batch.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Partition == partition {
			out = append(out, j)
		}
	}
	return out
}
