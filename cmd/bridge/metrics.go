package main

import (
	"fmt"
	"net/http"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/persistence/indexdb"
	"tilebridge.ai/internal/persistence/objstore"
	"tilebridge.ai/internal/transport/observer"
)

// metricsHandler writes a minimal Prometheus exposition.
func metricsHandler(svc *bridge.Service, idx *indexdb.SQLiteIndex, hub *observer.Hub, up *objstore.Uploader) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := svc.Stats()

		fmt.Fprintf(rw, "# HELP tilebridge_plans_total Planning requests by outcome.\n")
		fmt.Fprintf(rw, "# TYPE tilebridge_plans_total counter\n")
		fmt.Fprintf(rw, "tilebridge_plans_total{outcome=%q} %d\n", "found_goal", st.FoundGoal)
		fmt.Fprintf(rw, "tilebridge_plans_total{outcome=%q} %d\n", "returned_best", st.ReturnedBest)
		fmt.Fprintf(rw, "tilebridge_plans_total{outcome=%q} %d\n", "refused", st.Refused)

		fmt.Fprintf(rw, "# HELP tilebridge_sink_errors_total Plan sink write failures.\n")
		fmt.Fprintf(rw, "# TYPE tilebridge_sink_errors_total counter\n")
		fmt.Fprintf(rw, "tilebridge_sink_errors_total %d\n", st.SinkErrors)

		fmt.Fprintf(rw, "# HELP tilebridge_observers Connected observer streams.\n")
		fmt.Fprintf(rw, "# TYPE tilebridge_observers gauge\n")
		fmt.Fprintf(rw, "tilebridge_observers %d\n", hub.Subscribers())

		if up != nil {
			us := up.Stats()
			fmt.Fprintf(rw, "# HELP tilebridge_segment_uploads_total Plan log segment uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE tilebridge_segment_uploads_total counter\n")
			fmt.Fprintf(rw, "tilebridge_segment_uploads_total{result=%q} %d\n", "ok", us.UploadTotal)
			fmt.Fprintf(rw, "tilebridge_segment_uploads_total{result=%q} %d\n", "failed", us.FailTotal)
			fmt.Fprintf(rw, "tilebridge_segment_uploads_total{result=%q} %d\n", "dropped", us.DroppedTotal)
		}

		if idx == nil {
			return
		}
		is := idx.Stats()
		fmt.Fprintf(rw, "# HELP tilebridge_index_queue_depth Plan index queue backlog.\n")
		fmt.Fprintf(rw, "# TYPE tilebridge_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "tilebridge_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP tilebridge_index_records_total Plan index records by result.\n")
		fmt.Fprintf(rw, "# TYPE tilebridge_index_records_total counter\n")
		fmt.Fprintf(rw, "tilebridge_index_records_total{result=%q} %d\n", "written", is.WriteTotal)
		fmt.Fprintf(rw, "tilebridge_index_records_total{result=%q} %d\n", "dropped", is.DropTotal)
		fmt.Fprintf(rw, "tilebridge_index_records_total{result=%q} %d\n", "failed", is.FailTotal)
	}
}
