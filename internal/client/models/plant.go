package models

import "time"

type PlantType string

const (
	PlantVegetable  PlantType = "vegetable"
	PlantHerb       PlantType = "herb"
	PlantFruit      PlantType = "fruit"
	PlantFlower     PlantType = "flower"
	PlantTree       PlantType = "tree"
	PlantSucculent  PlantType = "succulent"
	PlantHouseplant PlantType = "houseplant"
	PlantOther      PlantType = "other"
)

type PlantStatus string

const (
	StatusSeed      PlantStatus = "seed"
	StatusSeedling  PlantStatus = "seedling"
	StatusGrowing   PlantStatus = "growing"
	StatusFlowering PlantStatus = "flowering"
	StatusFruiting  PlantStatus = "fruiting"
	StatusHarvested PlantStatus = "harvested"
	StatusDormant   PlantStatus = "dormant"
	StatusDead      PlantStatus = "dead"
)

// CareInfo groups watering and light requirements.
type CareInfo struct {
	WateringIntervalDays int        `json:"wateringIntervalDays,omitempty" validate:"omitempty,min=1,max=365"`
	Sunlight             string     `json:"sunlight,omitempty" validate:"omitempty,oneof=full_sun partial_shade shade"`
	LastWatered          *time.Time `json:"lastWatered,omitempty"`
	Fertilizer           string     `json:"fertilizer,omitempty" validate:"max=100"`
}

type Plant struct {
	Base
	Name      string      `json:"name" validate:"required,min=1,max=100"`
	Species   string      `json:"species,omitempty" validate:"max=100"`
	Type      PlantType   `json:"type" validate:"required,oneof=vegetable herb fruit flower tree succulent houseplant other"`
	Status    PlantStatus `json:"status" validate:"required,oneof=seed seedling growing flowering fruiting harvested dormant dead"`
	Location  string      `json:"location,omitempty" validate:"max=100"`
	PlantedAt *time.Time  `json:"plantedAt,omitempty"`
	Notes     string      `json:"notes,omitempty" validate:"max=2000"`
	Care      CareInfo    `json:"care"`
	Tags      []string    `json:"tags,omitempty" validate:"max=20,unique,dive,min=1,max=30"`
	ImageURL  string      `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

func (*Plant) EntityType() EntityType { return TypePlant }
