package dispatch

import (
	"fielddispatch/internal/model"
	"fielddispatch/internal/opt"
)

// Extract converts solver routes into wire routes: depot stops are dropped,
// times are rendered HH:MM, and technicians with no stops are omitted.
func Extract(inst *Instance, sol opt.Solution) []model.Route {
	out := []model.Route{}
	for _, r := range sol.Routes {
		stops := r.Jobs()
		if len(stops) == 0 {
			continue
		}
		t := inst.Techs[r.Vehicle]
		route := model.Route{TechnicianID: t.ID, TechnicianName: t.Name, Jobs: make([]model.RouteJob, 0, len(stops))}
		for _, st := range stops {
			j := inst.Jobs[st.Node]
			route.Jobs = append(route.Jobs, model.RouteJob{
				JobID:                  j.ID,
				CustomerID:             j.CustomerID,
				ServiceType:            j.ServiceType,
				Priority:               j.Priority,
				Location:               j.Location,
				EstimatedArrivalTime:   model.FormatClock(st.Arrival),
				EstimatedDepartureTime: model.FormatClock(st.Departure),
				EstimatedDuration:      st.Departure - st.Arrival,
			})
		}
		out = append(out, route)
	}
	return out
}
