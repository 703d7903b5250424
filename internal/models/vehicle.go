package models

// rideTier orders the interchangeable ride-vehicle classes. MOTO and VAN are
// separate categories and only ever match exactly.
var rideTier = map[VehicleType]int{
	VehicleEconomy: 0,
	VehicleComfort: 1,
	VehiclePremium: 2,
}

// VehicleCompatible reports whether a driver's vehicle can serve a request.
// An empty request means any vehicle. A higher ride tier counts as a
// compatible upgrade; a lower tier does not.
func VehicleCompatible(requested, actual VehicleType) bool {
	if requested == "" || requested == actual {
		return true
	}
	reqTier, reqOK := rideTier[requested]
	actTier, actOK := rideTier[actual]
	return reqOK && actOK && actTier > reqTier
}

// VehicleUpgradeCredit scores how well a vehicle matches a request: 1.0 for
// an exact match, halved per tier of upgrade, 0 for anything else.
func VehicleUpgradeCredit(requested, actual VehicleType) float64 {
	if requested == "" || requested == actual {
		return 1.0
	}
	reqTier, reqOK := rideTier[requested]
	actTier, actOK := rideTier[actual]
	if !reqOK || !actOK || actTier <= reqTier {
		return 0
	}
	credit := 1.0
	for i := reqTier; i < actTier; i++ {
		credit /= 2
	}
	return credit
}
