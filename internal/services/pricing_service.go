package services

import (
	"math"
)

// hoursPerMonth is the flat-rate month used by the AWS pricing tables.
const hoursPerMonth = 730

// CostComponent is one infrastructure component in a cost estimate.
// Zero values fall back to the documented per-type defaults.
type CostComponent struct {
	Type string `json:"type" validate:"required"`

	// ec2
	Instances    int    `json:"instances,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`

	// s3 (GB) / rds (GB) / ebs (GB)
	Storage          int    `json:"storage,omitempty"`
	AllocatedStorage int    `json:"allocated_storage,omitempty"`
	InstanceClass    string `json:"instance_class,omitempty"`
	MultiAZ          bool   `json:"multi_az,omitempty"`

	// lambda
	Memory int `json:"memory,omitempty"`

	// dynamodb
	BillingMode   string `json:"billing_mode,omitempty"`
	ReadCapacity  int    `json:"read_capacity,omitempty"`
	WriteCapacity int    `json:"write_capacity,omitempty"`

	// ebs
	Size       int    `json:"size,omitempty"`
	VolumeType string `json:"volume_type,omitempty"`
	IOPS       int    `json:"iops,omitempty"`

	// loadBalancer
	LBType string `json:"lb_type,omitempty"`
}

// PricingService is a stateless monthly cost estimator over a static AWS
// pricing table. No concurrency concerns and no persisted state.
type PricingService struct{}

// NewPricingService creates a new PricingService
func NewPricingService() *PricingService {
	return &PricingService{}
}

// EstimateMonthlyCost totals the monthly USD cost of the given components,
// rounded to cents. Components with no cost (vpc, subnet, security groups)
// contribute zero.
func (s *PricingService) EstimateMonthlyCost(components []CostComponent) float64 {
	total := 0.0
	for _, comp := range components {
		total += s.componentCost(comp)
	}
	return math.Round(total*100) / 100
}

func (s *PricingService) componentCost(comp CostComponent) float64 {
	switch comp.Type {
	case "ec2":
		instances := intOrDefault(comp.Instances, 1)
		return ec2Price(comp.InstanceType) * float64(instances)

	case "s3":
		storage := intOrDefault(comp.Storage, 10)
		return 0.023 * float64(storage)

	case "lambda":
		memory := intOrDefault(comp.Memory, 128)
		// $0.0000166667 per GB-second, estimated for 100,000
		// invocations/month at 500ms average duration.
		memoryGB := float64(memory) / 1024.0
		return 0.0000166667 * memoryGB * 0.5 * 100000

	case "rds":
		storage := intOrDefault(comp.AllocatedStorage, 20)
		instancePrice := rdsPrice(comp.InstanceClass)
		if comp.MultiAZ {
			instancePrice *= 2
		}
		return instancePrice + 0.115*float64(storage)

	case "dynamodb":
		if comp.BillingMode == "PAY_PER_REQUEST" {
			// Assume 1M reads, 0.5M writes per month.
			return 0.25*1 + 1.25*0.5
		}
		read := intOrDefault(comp.ReadCapacity, 5)
		write := intOrDefault(comp.WriteCapacity, 5)
		return (0.00013*float64(read) + 0.00065*float64(write)) * hoursPerMonth

	case "ebs":
		size := intOrDefault(comp.Size, 20)
		cost := float64(size) * ebsPrice(comp.VolumeType)
		if comp.VolumeType == "io1" {
			iops := intOrDefault(comp.IOPS, 100)
			cost += float64(iops) * 0.065
		}
		return cost

	case "loadBalancer":
		switch comp.LBType {
		case "network":
			return 0.0225*hoursPerMonth + 0.006*3*hoursPerMonth
		case "application", "":
			return 0.0225*hoursPerMonth + 0.008*3*hoursPerMonth
		default:
			// Classic ELB
			return 0.025 * hoursPerMonth
		}
	}

	// vpc, subnet, security group and unknown components have no cost
	return 0
}

func ec2Price(instanceType string) float64 {
	switch instanceType {
	case "t2.nano":
		return 5.0
	case "t2.small":
		return 17.0
	case "t2.medium":
		return 34.0
	case "t2.large":
		return 68.0
	default: // t2.micro
		return 8.5
	}
}

func rdsPrice(instanceClass string) float64 {
	switch instanceClass {
	case "db.t2.small":
		return 24.82
	case "db.t2.medium":
		return 49.64
	case "db.m5.large":
		return 138.7
	default: // db.t2.micro
		return 12.41
	}
}

func ebsPrice(volumeType string) float64 {
	switch volumeType {
	case "gp3":
		return 0.08
	case "io1":
		return 0.125
	case "st1":
		return 0.045
	case "sc1":
		return 0.025
	default: // gp2
		return 0.10
	}
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
